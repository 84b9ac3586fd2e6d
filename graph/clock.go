package graph

import "time"

// now is indirected so tests can freeze time if ever needed; production
// code always uses the wall clock.
var now = time.Now
