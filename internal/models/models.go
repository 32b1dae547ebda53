package models

import "time"

// KindText is the default message kind. Kinds are opaque tags chosen by
// clients; the server stores and forwards them without interpretation so new
// client-side kinds (image, file, ...) need no server change.
const KindText = "text"

type User struct {
	Identity  string      `json:"identity"`
	PublicKey Base64Bytes `json:"public_key"`
	CreatedAt time.Time   `json:"created_at"`
}

// Message is a committed relay record. Ciphertext is opaque to the server;
// the id and created_at fields are assigned at acceptance, never by clients.
type Message struct {
	ID             string      `json:"id"`
	Sender         string      `json:"sender"`
	Recipient      string      `json:"recipient"`
	Ciphertext     Base64Bytes `json:"ciphertext"`
	Kind           string      `json:"kind"`
	AttachmentName string      `json:"attachment_name,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`

	// Seq is the process-wide append order, used to break created_at ties
	// and to reconstruct identical ordering after a restart.
	Seq int64 `json:"-"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
