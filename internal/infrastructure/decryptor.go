package infrastructure

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/yourusername/course-extract-go/internal/domain"
)

const decryptOp = "decrypt"

// Decrypt decrypts an AES-128-CBC segment and strips its PKCS#7 padding
func Decrypt(raw, key, iv []byte) ([]byte, error) {
	if len(key) != aes.BlockSize {
		return nil, domain.NewError(domain.KindSegmentDecryptFailed, decryptOp, fmt.Sprintf("key must be %d bytes, got %d", aes.BlockSize, len(key)))
	}
	if len(iv) != aes.BlockSize {
		return nil, domain.NewError(domain.KindSegmentDecryptFailed, decryptOp, fmt.Sprintf("iv must be %d bytes, got %d", aes.BlockSize, len(iv)))
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, domain.NewError(domain.KindSegmentDecryptFailed, decryptOp, "ciphertext is not block aligned")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, domain.WrapError(domain.KindSegmentDecryptFailed, decryptOp, err)
	}

	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, raw)
	return unpad(plain)
}

func unpad(data []byte) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, domain.NewError(domain.KindSegmentDecryptFailed, decryptOp, "invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, domain.NewError(domain.KindSegmentDecryptFailed, decryptOp, "invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
