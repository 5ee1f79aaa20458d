// Package event はサービス間でやり取りするドメインイベントの型を定義する。
//
// 日記・コメント・友達サービスはこの形式のイベントをメッセージブローカーに発行し、
// 通知サービスはそれを購読して通知を生成する。通知サービス自身も
// NotificationSentイベントをEvent Storeに送信する。
package event
