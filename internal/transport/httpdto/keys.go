package httpdto

// SignedPrekey is the signed prekey as uploaded by clients.
type SignedPrekey struct {
	KeyID     uint32 `json:"key_id" binding:"required"`
	PublicKey []byte `json:"public_key" binding:"required"`
	Signature []byte `json:"signature" binding:"required"`
}

// OneTimePrekey is one entry of the one-time pool.
type OneTimePrekey struct {
	KeyID     uint32 `json:"key_id" binding:"required"`
	PublicKey []byte `json:"public_key" binding:"required"`
}

// RotateSignedPrekeyRequest is used for POST /keys/signed-prekey
type RotateSignedPrekeyRequest struct {
	SignedPrekey SignedPrekey `json:"signed_prekey" binding:"required"`
}

// UploadPrekeysRequest is used for POST /keys/one-time
type UploadPrekeysRequest struct {
	OneTimePrekeys []OneTimePrekey `json:"one_time_prekeys" binding:"required"`
}

// PrekeyBundleResponse is returned by GET /keys/bundle/:user_id. The
// one-time prekey is absent when the pool is exhausted.
type PrekeyBundleResponse struct {
	IdentityKey   []byte         `json:"identity_key"`
	SignedPrekey  SignedPrekey   `json:"signed_prekey"`
	OneTimePrekey *OneTimePrekey `json:"one_time_prekey,omitempty"`
}

// PrekeyCountResponse is returned by GET /keys/one-time/count
type PrekeyCountResponse struct {
	Available int64 `json:"available"`
}
