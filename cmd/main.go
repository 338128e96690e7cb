// cmd/main.go
package main

import (
	"github.com/miguelbtcode/techmart-backend-sub002/app"
)

// @title           TechMart Auth API
// @version         1.0
// @description     Authentication backend for the TechMart platform: sessions, refresh-token rotation and role management.

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	app.Run()
}
