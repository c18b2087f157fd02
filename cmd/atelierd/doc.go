// Command atelierd runs the atelier daemon without the CLI wrapper, for
// service managers. ATELIER_CONFIG selects the configuration file and
// ATELIER_LOG_LEVEL overrides logging.level.
package main
