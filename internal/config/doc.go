// Package config собирает конфигурацию процессов flowcase.
//
// Порядок: значения по умолчанию, затем YAML-файл из FLOWCASE_CONFIG
// (если задан), затем переменные окружения.
package config
