// Package iocli абстрагирует терминал для команд sessionctl, чтобы их можно было тестировать без stdin.
package iocli

import "io"

//go:generate moq -out io_mock.go . IO

// IO вывод команд и ввод учетных данных
type IO interface {
	io.Writer

	Println(a ...any)
	Printf(format string, a ...any)
	// ReadInput печатает prompt и читает строку без перевода строки
	ReadInput(prompt string) (string, error)
	// ReadPassword читает строку без эха, если stdin терминал
	ReadPassword(prompt string) (string, error)
}
