package service

import "github.com/Strob0t/AutoAgent/internal/domain"

// invalid turns a request validation failure into a caller-facing ErrValidation.
func invalid(err error) error {
	return domain.Errorf(domain.ErrValidation, "%s", err.Error())
}

// notFound is the uniform answer for entities that are missing or owned by
// someone else.
func notFound(what string) error {
	return domain.Errorf(domain.ErrNotFound, "%s not found", what)
}
