package hooks

import "time"

// now is indirected so tests can freeze time when asserting on At().
var now = time.Now
