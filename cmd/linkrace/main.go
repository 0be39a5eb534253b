// Command linkrace hammers the account linking engine with concurrent
// sign-ins, sign-ups and email verifications that share an email, then
// checks that every email ended up with a single primary user.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
