package mongo

import "errors"

var (
	ErrEmptyConnectionURL     = errors.New("empty mongodb connection url, use MONGODB_URL env var")
	ErrFailedToConnectToMongo = errors.New("failed to connect to mongodb")
	ErrHealthcheckFailed      = errors.New("mongodb healthcheck failed")
)
