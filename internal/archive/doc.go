// Package archive хранит завершённые case и assets в blob-хранилище.
//
// Bucket открывается по URL (file://, mem://, s3://) через gocloud.dev/blob.
//
// Раскладка ключей:
//
//	cases/<caseType>/<id>.json        — финальный case с tasks
//	assets/<caseType>/<id>.json       — описание asset
//	assets/<caseType>/<id>.<ext>      — содержимое asset
package archive
