// Package main is the faunagate command line.
//
//	@title						faunagate API
//	@version					1.0
//	@description				CRUD and user endpoints generated from model declarations.
//
//	@contact.name				faunagate
//	@contact.url				https://github.com/artpar/faunagate/issues
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Session token (format: "Bearer {token}")
package main

func main() {
	Execute()
}
