package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Prefix es el esquema que acompaña a la firma en la cabecera X-Signature.
const Prefix = "sha256="

// Sign calcula el HMAC-SHA256 del payload con el secreto dado y lo devuelve en hex.
// Es una función pura: mismos bytes de entrada, misma firma.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header devuelve el valor completo de la cabecera ("sha256=<hex>").
// Si el secreto está vacío devuelve "", y la cabecera debe omitirse:
// las suscripciones pueden optar por no firmar.
func Header(secret string, payload []byte) string {
	if secret == "" {
		return ""
	}
	return Prefix + Sign(secret, payload)
}

// Verify comprueba una firma recibida contra el payload, en tiempo constante.
// Acepta el valor con o sin el prefijo "sha256=".
func Verify(secret string, payload []byte, received string) bool {
	if len(received) >= len(Prefix) && received[:len(Prefix)] == Prefix {
		received = received[len(Prefix):]
	}
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(received))
}
