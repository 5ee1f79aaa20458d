// Package middleware は通知サービスのHTTP APIで使用するGinミドルウェアを提供する。
//
// JWT認証トークンの検証、zapによるリクエストログ、パニックリカバリ、
// CORS設定、日次クォータ制限を含む。
package middleware
