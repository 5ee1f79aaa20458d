// Package realtime はSSEによる通知のリアルタイム配信と再送を提供する。
//
// 接続ごとのEmitterをRegistryで管理し、配信した通知をEventCacheに残す。
// 再接続したクライアントはLast-Event-ID以降のイベントを受け取れる。
// 接続キーとイベントIDはどちらも "{userId}_{seq}" 形式のIDで、seqは
// Sequencerが採番するプロセス内で単調増加する値である。
//
// seqはエポックミリ秒に基づくため、RedisCacheを複数インスタンスで共有すると
// イベントの並びは各ホストの時計に従う。ホスト間の時計のずれより短い間隔で
// 別インスタンスから配信されたイベントは、書き込み順と逆に並ぶことがあり、
// 先行するLast-Event-IDを持つクライアントには再送されない場合がある。
// 時計はNTP等で同期しておくこと。ライブ配信は接続を持つインスタンス内で完結する。
package realtime
