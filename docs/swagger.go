package docs

import "github.com/swaggo/swag"

// @title Food Delivery Dispatch API
// @version 1.0
// @description Order dispatch, delivery assignment and OTP-gated completion
// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
var SwaggerInfo = &swag.Spec{
	Version:     "1.0",
	Host:        "localhost:8080",
	BasePath:    "/api",
	Title:       "Food Delivery Dispatch API",
	Description: "Order dispatch, delivery assignment and OTP-gated completion",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
