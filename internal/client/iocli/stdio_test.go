package iocli

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Проверяем что NewStdio возвращает валидный объект
func TestNewStdio(t *testing.T) {
	stdio := NewStdio()
	assert.NotNil(t, stdio)
}

func TestPrintlnAndPrintf(t *testing.T) {
	var out bytes.Buffer
	stdio := NewStdioFrom(os.Stdin, &out)

	stdio.Println("hello", "world")
	stdio.Printf("test %d %s\n", 1, "abc")
	_, err := stdio.Write([]byte("raw"))
	require.NoError(t, err)

	assert.Equal(t, "hello world\ntest 1 abc\nraw", out.String())
}

// pipeInput подает input в Stdio через pipe вместо терминала
func pipeInput(t *testing.T, input string) *os.File {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	go func() {
		_, _ = w.Write([]byte(input))
		_ = w.Close()
	}()
	return r
}

func TestReadInput(t *testing.T) {
	var out bytes.Buffer
	stdio := NewStdioFrom(pipeInput(t, "  user input \nsecond\n"), &out)

	first, err := stdio.ReadInput("Prompt: ")
	require.NoError(t, err)
	assert.Equal(t, "user input", first)

	second, err := stdio.ReadInput("Prompt: ")
	require.NoError(t, err)
	assert.Equal(t, "second", second)

	assert.Equal(t, "Prompt: Prompt: ", out.String())
}

func TestReadInput_LastLineWithoutNewline(t *testing.T) {
	stdio := NewStdioFrom(pipeInput(t, "tail"), &bytes.Buffer{})

	got, err := stdio.ReadInput("")
	require.NoError(t, err)
	assert.Equal(t, "tail", got)

	_, err = stdio.ReadInput("")
	assert.Error(t, err)
}

// Не терминал: пароль читается как обычная строка
func TestReadPassword_FromPipe(t *testing.T) {
	stdio := NewStdioFrom(pipeInput(t, "s3cret-pass\n"), &bytes.Buffer{})

	got, err := stdio.ReadPassword("Password: ")
	require.NoError(t, err)
	assert.Equal(t, "s3cret-pass", got)
}
