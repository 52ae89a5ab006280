package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var (
	// ErrParse is returned when environment variables cannot be parsed into the target.
	ErrParse = errors.New("config: failed to parse environment")
	// ErrInvalid is returned when a parsed value fails its validate tag.
	ErrInvalid = errors.New("config: invalid configuration")
)

var (
	dotenvOnce sync.Once
	cache      sync.Map // reflect.Type -> value
	validate   = validator.New(validator.WithRequiredStructEnabled())
)

// Load populates cfg from the environment once per type and caches the result.
// A .env file in the working directory is read on first use when present.
// Struct fields are validated with their validate tags after parsing.
func Load[T any](cfg *T) error {
	t := reflect.TypeFor[T]()
	if v, ok := cache.Load(t); ok {
		*cfg = v.(T)
		return nil
	}

	dotenvOnce.Do(func() {
		_ = godotenv.Load()
	})

	if err := env.Parse(cfg); err != nil {
		return errors.Join(ErrParse, err)
	}
	if err := Validate(cfg); err != nil {
		return err
	}

	actual, _ := cache.LoadOrStore(t, *cfg)
	*cfg = actual.(T)
	return nil
}

// MustLoad is like Load but panics on error. Useful during startup.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}

// Validate checks the validate tags of a struct.
// Values built in code, such as defaults, can be checked the same way as loaded ones.
func Validate(cfg any) error {
	if err := validate.Struct(cfg); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return errors.Join(ErrInvalid, err)
		}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]error, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Errorf("%s: failed %q (%v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.Join(append([]error{ErrInvalid}, fields...)...)
		}
		return errors.Join(ErrInvalid, err)
	}
	return nil
}
