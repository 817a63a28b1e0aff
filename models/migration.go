package models

import (
	"log"

	"bitbucket.org/mmdatafocus/resto_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Product{}, &Ingredient{}, &ProductIngredient{},
		&Order{}, &OrderItem{},
		&IngredientHistory{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
