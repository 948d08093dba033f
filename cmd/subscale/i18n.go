// Package main provides localization for the subscale CLI.
package main

import (
	"github.com/ideamans/go-l10n"
)

func init() {
	// Register Japanese translations for CLI messages.
	l10n.Register("ja", l10n.LexiconMap{
		// Root command
		"Decode regions of large images at reduced sample sizes": "大きな画像の領域を縮小サンプルでデコード",

		// Global flags
		"YAML configuration file":                               "YAML設定ファイル",
		"Decoder backend (native, imaging)":                     "デコーダーバックエンド（native, imaging）",
		"Do not fall back to the imaging backend":               "imagingバックエンドへのフォールバックを無効化",
		"Directory for the imaging disk cache":                  "imagingディスクキャッシュのディレクトリ",
		"Log level (debug, info, warn, error)":                  "ログレベル（debug, info, warn, error）",
		"Suppress all log output":                               "すべてのログ出力を抑制",
		"Write source info and decoded tiles to this directory": "ソース情報とデコード済みタイルをこのディレクトリに書き込む",

		// Commands
		"Show image dimensions and tile size":                "画像サイズとタイルサイズを表示",
		"Decode one region to an image file":                 "1つの領域を画像ファイルにデコード",
		"Decode the whole image tile by tile and compose it": "画像全体をタイルごとにデコードして合成",
		"Show version information":                           "バージョン情報を表示",

		// Command flags
		"Region as x,y,w,h (default: whole image)": "領域 x,y,w,h（デフォルト: 画像全体）",
		"Sample size (1 = full resolution)":        "サンプルサイズ（1 = 原寸）",
		"Output PNG or JPEG file path (required)":  "出力PNGまたはJPEGファイルパス（必須）",
		"Outline each tile":                        "各タイルの枠線を描画",

		// Errors
		"exactly one locator argument is required": "ロケーターを1つだけ指定してください",

		// Output
		"Image %s: %dx%d, tile size %dx%d": "画像 %s: %dx%d, タイルサイズ %dx%d",
		"subscale version %s":              "subscale バージョン %s",
	})
}
