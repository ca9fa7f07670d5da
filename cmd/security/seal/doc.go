// Package seal protects credentials persisted by the client-side credential store.
//
// Stored access and renewal tokens are sealed with XChaCha20-Poly1305 using a key
// derived via HKDF-SHA256 from STOREFRONT_STORE_KEY. Sealed values carry a version
// prefix ("v1.") so the format can evolve.
//
// Fingerprint gives a short, stable, non-reversible token identifier for logs.
// Raw tokens must never be logged.
package seal
