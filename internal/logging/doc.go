// Package logging is the service's leveled logger, a thin layer over the
// standard log package.
//
// Levels are DEBUG, INFO, WARN and ERROR, plus Fatal which exits. The level is
// read once from DEBUG (any truthy value selects debug) or LOG_LEVEL, and can
// be overridden with SetLevel.
package logging
