// Package httpclient はピアサービスとのJSON HTTP通信を行うクライアントを提供する。
//
// 通知サービスはユーザーサービスへの存在確認とEvent Storeへのイベント送信に使用する。
// 2xx以外の応答は *StatusError として返し、呼び出し側でステータスを判定できる。
package httpclient
