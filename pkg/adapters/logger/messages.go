package logger

import "github.com/ideamans/go-l10n"

func init() {
	l10n.Register("ja", l10n.LexiconMap{
		// Resolver
		"Resolving %s as %s":                  "%s を %s として解決中",
		"Looking up package %s":               "パッケージ %s を検索中",
		"Opening resource %d from package %s": "パッケージ %s のリソース %d を開いています",

		// Decoder lifecycle
		"Using %s backend":                  "%s バックエンドを使用します",
		"Using %s backend with %s fallback": "%s バックエンドを使用します（フォールバック: %s）",
		"Initializing decoder for %s":       "%s のデコーダーを初期化中",
		"Decoder initialized: %dx%d (%s)":   "デコーダー初期化完了: %dx%d (%s)",
		"Decoder recycled":                  "デコーダーを解放しました",
		"Init skipped: caller cancelled":    "呼び出し元がキャンセルしたため初期化を中止しました",

		// Region decoding
		"Decoding region %v at sample size %d":    "領域 %v をサンプルサイズ %d でデコード中",
		"Decoded tile %dx%d":                      "タイル %dx%d をデコードしました",
		"Decode result dropped: caller cancelled": "呼び出し元がキャンセルしたためデコード結果を破棄しました",

		// Shared caches
		"Memory cache hit for %s": "メモリキャッシュにヒット: %s",
		"Disk cache hit for %s":   "ディスクキャッシュにヒット: %s",
		"Decoded source %s":       "ソース %s をデコードしました",
		"Releasing shared caches": "共有キャッシュを解放中",

		// Host
		"Fetching %s":              "%s を取得中",
		"No resource table for %s": "%s のリソーステーブルがありません",

		// Warnings
		"Decoder returned no usable pixel data for %v": "%v のデコードで有効なピクセルデータが得られませんでした",
		"Falling back to %s backend for region %v":     "領域 %v のデコードに %s バックエンドを使用します",
		"Failed to write debug source info: %s":        "デバッグ用ソース情報の書き込みに失敗しました: %s",
		"Failed to write debug tile: %s":               "デバッグタイルの書き込みに失敗しました: %s",
		"Failed to open disk cache: %s":                "ディスクキャッシュを開けませんでした: %s",
		"Failed to read disk cache entry: %s":          "ディスクキャッシュの読み込みに失敗しました: %s",
		"Failed to write disk cache entry: %s":         "ディスクキャッシュの書き込みに失敗しました: %s",
		"Failed to release shared caches: %s":          "共有キャッシュの解放に失敗しました: %s",
		"Failed to load resources for %s: %s":          "%s のリソースを読み込めませんでした: %s",

		// Errors
		"Failed to initialize decoder: %s": "デコーダーの初期化に失敗しました: %s",

		// CLI
		"Output saved to %s":                   "出力を %s に保存しました",
		"Rendering %d tiles at sample size %d": "%d タイルをサンプルサイズ %d で描画中",
		"Skipping tile %v: %s":                 "タイル %v をスキップします: %s",
		"Interrupted, shutting down...":        "中断されました。シャットダウン中...",
	})
}
