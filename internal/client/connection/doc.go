// Package connection - клиентское подключение к релею: состояния,
// heartbeat с RTT и переподключение с backoff
package connection
