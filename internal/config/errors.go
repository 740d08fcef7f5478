package config

import "errors"

var (
	// ErrUnknownMode is returned when mode is not local, provider or hybrid.
	ErrUnknownMode = errors.New("config mode must be one of local, provider, hybrid")

	// ErrUnknownStoreDriver is returned for an unsupported store.driver.
	ErrUnknownStoreDriver = errors.New("config store.driver is not supported")

	// ErrEmptyBackendURL is returned when a mode needing the backend has no backend.url.
	ErrEmptyBackendURL = errors.New("config backend.url can not be empty")

	// ErrEmptyProvider is returned when a mode needing the identity provider has neither provider.issuer nor provider.tokenURL.
	ErrEmptyProvider = errors.New("config provider.issuer or provider.tokenURL must be set")

	// ErrEmptyDSN is returned for a database driver without a dsn.
	ErrEmptyDSN = errors.New("config dsn can not be empty for this driver")

	// ErrEmptyProjectID is returned for the datastore driver without store.projectID.
	ErrEmptyProjectID = errors.New("config store.projectID can not be empty")

	// ErrShortSecret is returned when server.jwtSecret is shorter than 16 bytes.
	ErrShortSecret = errors.New("config server.jwtSecret must be at least 16 bytes")
)
