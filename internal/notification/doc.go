// Package notification は通知サービスのHTTPサーバーを提供する。
//
// SSEによるリアルタイム購読（/subscribe）、通知履歴と既読管理、
// FCMデバイストークンの登録、ピアサービス向けの送信APIを公開する。
// 配信と再送はrealtime、保存はstore、送信処理はdispatchパッケージが担う。
package notification
