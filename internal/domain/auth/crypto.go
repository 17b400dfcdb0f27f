package auth

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"
)

// CryptoJS passphrase mode: base64("Salted__" | salt[8] | ciphertext), key and
// IV derived with OpenSSL EVP_BytesToKey (MD5, one round), AES-256-CBC, PKCS7.

var (
	ErrCiphertextInvalid = errors.New("auth: invalid ciphertext")
	ErrPaddingInvalid    = errors.New("auth: invalid padding")
)

var saltedPrefix = []byte("Salted__")

const (
	keyLen  = 32
	ivLen   = aes.BlockSize
	saltLen = 8
)

func evpBytesToKey(passphrase, salt []byte) (key, iv []byte) {
	var derived, block []byte
	for len(derived) < keyLen+ivLen {
		h := md5.New()
		h.Write(block)
		h.Write(passphrase)
		h.Write(salt)
		block = h.Sum(nil)
		derived = append(derived, block...)
	}
	return derived[:keyLen], derived[keyLen : keyLen+ivLen]
}

// DecryptPassphrase reverses CryptoJS.AES.encrypt(plaintext, passphrase).
func DecryptPassphrase(encoded, passphrase string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextInvalid, err)
	}
	if len(raw) < len(saltedPrefix)+saltLen+aes.BlockSize || !bytes.HasPrefix(raw, saltedPrefix) {
		return "", ErrCiphertextInvalid
	}
	salt := raw[len(saltedPrefix) : len(saltedPrefix)+saltLen]
	body := raw[len(saltedPrefix)+saltLen:]
	if len(body)%aes.BlockSize != 0 {
		return "", ErrCiphertextInvalid
	}

	key, iv := evpBytesToKey([]byte(passphrase), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plain) {
		return "", ErrCiphertextInvalid
	}
	return string(plain), nil
}

// EncryptPassphrase produces the same format CryptoJS emits.
func EncryptPassphrase(plaintext, passphrase string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key, iv := evpBytesToKey([]byte(passphrase), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad([]byte(plaintext))
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	buf := make([]byte, 0, len(saltedPrefix)+saltLen+len(out))
	buf = append(buf, saltedPrefix...)
	buf = append(buf, salt...)
	buf = append(buf, out...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

func pkcs7Pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrPaddingInvalid
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrPaddingInvalid
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrPaddingInvalid
		}
	}
	return b[:len(b)-n], nil
}
