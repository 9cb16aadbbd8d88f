package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const passwordCost = 10

var (
	ErrEmptyPassword      = errors.New("password must not be empty")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

func HashPassword(password string) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return nil, fmt.Errorf("error encrypting password: %w", err)
	}
	return hashed, nil
}

func CheckPassword(hashed []byte, password string) error {
	if err := bcrypt.CompareHashAndPassword(hashed, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
