package credstore

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// Параметры scrypt по умолчанию
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1

	saltSize = 16

	envelopeVersion = 1
)

// envelope формат зашифрованного блоба в хранилище.
// Соль генерируется заново при каждой записи, поэтому ключ AEAD каждый раз
// свежий и нулевой nonce не приводит к повторному использованию пары ключ/nonce
type envelope struct {
	Version int    `json:"v"`
	Salt    []byte `json:"salt"`
	ScryptN int    `json:"scrypt_n"`
	ScryptR int    `json:"scrypt_r"`
	ScryptP int    `json:"scrypt_p"`
	Cipher  []byte `json:"cipher"`
}

// sealToken шифрует сериализованный токен парольной фразой
func sealToken(passphrase, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("ошибка генерации соли: %w", err)
	}

	key, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("ошибка вывода ключа: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации шифра: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	cipher := aead.Seal(nil, nonce, plaintext, nil)

	env := envelope{
		Version: envelopeVersion,
		Salt:    salt,
		ScryptN: scryptN,
		ScryptR: scryptR,
		ScryptP: scryptP,
		Cipher:  cipher,
	}

	blob, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации конверта: %w", err)
	}

	return blob, nil
}

// openToken расшифровывает блоб, выводя ключ из параметров конверта
func openToken(passphrase, blob []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("ошибка разбора конверта: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("неизвестная версия конверта: %d", env.Version)
	}

	key, err := scrypt.Key(passphrase, env.Salt, env.ScryptN, env.ScryptR, env.ScryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("ошибка вывода ключа: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации шифра: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	plaintext, err := aead.Open(nil, nonce, env.Cipher, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка расшифровки: %w", err)
	}

	return plaintext, nil
}
