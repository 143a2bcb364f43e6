package db

import (
	"errors"

	"github.com/pysugar/ami-nexus/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LookupRoute returns the active route for a client model id, or nil
// when none exists.
func LookupRoute(db *gorm.DB, clientModel string) (*models.ModelRoute, error) {
	var route models.ModelRoute
	err := db.Where("client_model = ? AND is_active = ?", clientModel, true).First(&route).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &route, nil
}

// ListRoutes returns every route ordered by client model.
func ListRoutes(db *gorm.DB) ([]models.ModelRoute, error) {
	var routes []models.ModelRoute
	if err := db.Order("client_model ASC").Find(&routes).Error; err != nil {
		return nil, err
	}
	return routes, nil
}

// SaveRoute creates or replaces the route for route.ClientModel.
func SaveRoute(db *gorm.DB, route *models.ModelRoute) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "client_model"}},
		UpdateAll: true,
	}).Create(route).Error
}

// DeleteRoute removes a route by id. Returns false when no row matched.
func DeleteRoute(db *gorm.DB, id uint) (bool, error) {
	result := db.Delete(&models.ModelRoute{}, id)
	return result.RowsAffected > 0, result.Error
}
