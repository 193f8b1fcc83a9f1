package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign_KnownVector(t *testing.T) {
	payload := []byte(`{"event":"invoice.paid","data":{"id":"abc"}}`)

	// Calculamos el valor esperado directamente con la librería estándar.
	mac := hmac.New(sha256.New, []byte("s3cr3t"))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, expected, Sign("s3cr3t", payload))
	assert.Equal(t, "sha256="+expected, Header("s3cr3t", payload))
}

func TestSign_PayloadSensitivity(t *testing.T) {
	payload := []byte(`{"event":"invoice.paid"}`)
	sig := Sign("s3cr3t", payload)

	// Cambiar un solo byte del payload cambia la firma.
	mutated := append([]byte(nil), payload...)
	mutated[0] = '['
	assert.NotEqual(t, sig, Sign("s3cr3t", mutated))

	// Cambiar el secreto también.
	assert.NotEqual(t, sig, Sign("otro", payload))
}

func TestHeader_EmptySecret(t *testing.T) {
	// Sin secreto no hay firma: la cabecera se omite por completo.
	assert.Equal(t, "", Header("", []byte("payload")))
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"event":"invoice.paid"}`)

	assert.True(t, Verify("shh", payload, Header("shh", payload)))
	assert.True(t, Verify("shh", payload, Sign("shh", payload))) // sin prefijo
	assert.False(t, Verify("shh", payload, "sha256=deadbeef"))
	assert.False(t, Verify("otra", payload, Header("shh", payload)))
}
