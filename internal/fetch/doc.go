// Package fetch gives scripts outbound HTTP without ever parking the
// interpreter: requests run on background goroutines and results come
// back as callback events on the shared queue.
package fetch
