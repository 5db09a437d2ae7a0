package main

// Include the default GoMLX backend: XLA when available, the pure Go
// simplego backend otherwise.

import _ "github.com/gomlx/gomlx/backends/default"
