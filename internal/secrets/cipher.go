package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"github.com/identity-sync/saas-connector/internal/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
)

// Cipher encrypts vendor credentials before they hit the organisations table.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

func NewCipher(impl string, cfg *config.Config) (Cipher, error) {
	switch impl {
	case "aes_gcm":
		return NewAesGcmCipher(cfg.CredentialCipherAesKey)
	case "aws_kms":
		return NewKmsCipher(cfg.AwsRegion, cfg.CredentialCipherKmsKeyId)
	default:
		return nil, errors.New("Invalid Cipher impl requested")
	}
}

type AesGcmCipher struct {
	aead cipher.AEAD
}

func NewAesGcmCipher(hexKey string) (*AesGcmCipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errors.New("Credential cipher key must be hex encoded")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &AesGcmCipher{aead: aead}, nil
}

func (c *AesGcmCipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *AesGcmCipher) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	if len(raw) < c.aead.NonceSize() {
		return "", errors.New("Ciphertext is too short")
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

type KmsCipher struct {
	kmsClient *kms.KMS
	keyId     string
}

func NewKmsCipher(region string, keyId string) (*KmsCipher, error) {
	if keyId == "" {
		return nil, errors.New("KMS key id is required for the aws_kms cipher")
	}

	awsSession, err := session.NewSession(aws.NewConfig().WithRegion(region))
	if err != nil {
		return nil, err
	}

	return &KmsCipher{
		kmsClient: kms.New(awsSession),
		keyId:     keyId,
	}, nil
}

func (c *KmsCipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	output, err := c.kmsClient.EncryptWithContext(ctx, &kms.EncryptInput{
		KeyId:     aws.String(c.keyId),
		Plaintext: []byte(plaintext),
	})
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(output.CiphertextBlob), nil
}

func (c *KmsCipher) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	output, err := c.kmsClient.DecryptWithContext(ctx, &kms.DecryptInput{
		KeyId:          aws.String(c.keyId),
		CiphertextBlob: raw,
	})
	if err != nil {
		return "", err
	}

	return string(output.Plaintext), nil
}
