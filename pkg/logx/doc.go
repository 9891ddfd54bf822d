// Package logx is a thin structured-logging facade over zerolog.
//
// Components receive a logx.Logger and derive scoped loggers with With().
// The Service owns the root sink/level and can re-apply config at runtime
// without invalidating loggers already handed out.
package logx
