// Package callback отвечает за обратные вызовы.
//
// Signer подписывает идентификаторы HMAC-SHA256: ключ task callback
// (fw-callback-x-api-key) и ключ воркеров очереди.
// Runner асинхронно отправляет результат case на callback клиента.
package callback
