// Package watchdog periodically re-reads the credential store and classifies
// the stored token.
//
// The watchdog only produces verdicts. Acting on them, including clearing
// the store, is up to the [Handler], which keeps all session mutations on
// one writer.
package watchdog
