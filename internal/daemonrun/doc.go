// Package daemonrun is the process entrypoint shared by "atelier daemon" and
// the atelierd binary. It sets up logging, opens the datastore, builds the
// provider and image store from config, and runs the daemon until signalled.
package daemonrun
