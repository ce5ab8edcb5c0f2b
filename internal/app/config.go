package app

// Config holds runtime wiring options for building the app.
type Config struct {
	Home       string // config directory, e.g. $HOME/.sealrelay
	RelayURL   string // server base URL, e.g. http://127.0.0.1:8080
	Passphrase string // unlocks the local key store
}
