// Package studiorest provides REST API utilities with CORS support and common
// middleware for the HTTP-facing Lambdas.
package studiorest

import (
	"fmt"
	"net/http"

	studiocli "github.com/atelierhq/studio-realtime/studio-cli"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/savaki/apigateway"
)

func Middlewares(service studiocli.Service, routes chi.Router) chi.Router {
	routes.Use(
		withCORS(),
		withLogger(studiocli.Logger(service)),
		middleware.Recoverer,
	)
	return routes
}

func Webserver(service studiocli.Service, routes chi.Router) error {
	logger := studiocli.Logger(service)

	if studiocli.CommonOpts.Console {
		logger.Info().Int("port", studiocli.CommonOpts.Port).Msg("starting http server")
		addr := fmt.Sprintf(":%v", studiocli.CommonOpts.Port)
		return http.ListenAndServe(addr, routes)
	}

	lambda.Start(apigateway.Wrap(routes, studiocli.CommonOpts.Env))
	return nil
}

func withCORS() func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
	})
}

func withLogger(logger zerolog.Logger) func(handler http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := logger.WithContext(req.Context())
			req = req.WithContext(ctx)
			handler.ServeHTTP(w, req)
		})
	}
}
