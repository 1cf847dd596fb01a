// Package version хранит метаданные сборки, прошиваемые через -ldflags.
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

// String собирает метаданные в одну строку для логов запуска.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// UserAgent идентифицирует сервис в исходящих HTTP-запросах,
// в первую очередь к платёжному шлюзу.
func UserAgent() string {
	return "checkout/" + version
}
