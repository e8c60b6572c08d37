package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Ошибки валидации параметров подключения
var (
	ErrDSNEmptyHost     = errors.New("postgres host is empty")
	ErrDSNInvalidPort   = errors.New("postgres port is out of range")
	ErrDSNEmptyUser     = errors.New("postgres user is empty")
	ErrDSNEmptyPassword = errors.New("postgres password is empty")
	ErrDSNEmptyDatabase = errors.New("postgres database name is empty")
	ErrDSNEmptySSLMode  = errors.New("postgres ssl mode is empty")
	ErrDSNInvalidParams = errors.New("postgres pool size or timeout is negative")
)

// ConnConfig параметры подключения к PostgreSQL
type ConnConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Timeout  time.Duration
	PoolSize int
}

// DSN собирает строку подключения в формате keyword/value для pgxpool.
// Размер пула передается через pool_max_conns, таймаут через connect_timeout
func (c ConnConfig) DSN() (string, error) {
	switch {
	case c.Host == "":
		return "", ErrDSNEmptyHost
	case c.Port < 0 || c.Port > 65535:
		return "", ErrDSNInvalidPort
	case c.User == "":
		return "", ErrDSNEmptyUser
	case c.Password == "":
		return "", ErrDSNEmptyPassword
	case c.DBName == "":
		return "", ErrDSNEmptyDatabase
	case c.SSLMode == "":
		return "", ErrDSNEmptySSLMode
	case c.PoolSize < 0 || c.Timeout < 0:
		return "", ErrDSNInvalidParams
	}

	var b strings.Builder
	fmt.Fprintf(&b, "host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	if c.Timeout > 0 {
		fmt.Fprintf(&b, " connect_timeout=%d", int(c.Timeout.Seconds()))
	}
	if c.PoolSize > 0 {
		fmt.Fprintf(&b, " pool_max_conns=%d", c.PoolSize)
	}
	return b.String(), nil
}
