// Package tgui holds small Telegram UI helpers: an inline keyboard
// builder and HTML-escaping primitives for ParseMode="HTML".
package tgui
