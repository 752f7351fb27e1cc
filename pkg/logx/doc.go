// Package logx is a thin structured-logging facade over zerolog.
//
// Components depend on logx.Logger, never on zerolog directly, so sink
// wiring (console, file) and level changes stay a config concern.
package logx
