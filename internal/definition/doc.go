// Package definition загружает определения flow из файлов *.flow.yaml.
//
// Включает:
//   - loader.go    — поиск файлов (doublestar), декодирование (yaml.v3)
//   - normalize.go — нормализация и валидация FlowDef
//   - store.go     — Store: Resolve, List, подписчики на перезагрузку
//   - watch.go     — перезагрузка при изменении файлов (fsnotify)
//
// После загрузки FlowDef неизменяем: перезагрузка подменяет
// определения целиком, а уже работающие case дочитывают старые.
package definition
