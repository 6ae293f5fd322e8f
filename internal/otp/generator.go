package otp

import (
	"crypto/rand"
	"math/big"
	"reportbot/backend/internal/config"
	"strconv"
)

// Generator produces six-digit codes.
type Generator interface {
	Generate() (string, error)
}

// RandomGenerator draws uniformly from 100000..999999.
type RandomGenerator struct{}

func (RandomGenerator) Generate() (string, error) {
	span := big.NewInt(config.OTPMaxValue - config.OTPMinValue + 1)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+config.OTPMinValue, 10), nil
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func() (string, error)

func (f GeneratorFunc) Generate() (string, error) { return f() }
