// Package session tracks live connections in Redis so operators and other
// instances can see which server holds which anonymous session. It stores
// no pairing state.
package session
