// Package logx provides a small structured-logging façade over zerolog.
//
// Components receive a Logger value and never touch zerolog directly, so
// sinks and levels can be swapped at runtime via Service.Apply without
// re-plumbing loggers through the app.
package logx
