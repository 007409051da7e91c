package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/voicedesk/assistant/backend/internal/config"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	addr := flag.String("url", "ws://localhost:8080/ws/audio", "WebSocket 地址")
	token := flag.String("token", "", "访问令牌，留空时使用 AUTH_SIGNING_KEY 签发")
	userID := flag.Int64("user", 1, "自动签发令牌时使用的用户 ID")
	audioPath := flag.String("audio", "", "可选，发送的音频文件路径")
	timeout := flag.Duration("timeout", 60*time.Second, "等待回复的超时时间")

	flag.Parse()

	if *token == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("配置加载失败: %v", err)
		}
		signed, err := issueToken(cfg.Auth, *userID)
		if err != nil {
			log.Fatalf("签发令牌失败: %v", err)
		}
		*token = signed
	}

	target, err := url.Parse(*addr)
	if err != nil {
		log.Fatalf("地址解析失败: %v", err)
	}
	query := target.Query()
	query.Set("token", *token)
	target.RawQuery = query.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(target.String(), nil)
	if err != nil {
		log.Fatalf("连接失败: %v", err)
	}
	defer conn.Close()

	log.Printf("已连接 %s", *addr)
	expect(conn, *timeout)

	send(conn, map[string]any{"type": "start_recording"})
	expect(conn, *timeout)

	if *audioPath != "" {
		data, err := os.ReadFile(*audioPath)
		if err != nil {
			log.Fatalf("读取音频文件失败: %v", err)
		}
		log.Printf("发送音频 %s (%d bytes)", *audioPath, len(data))
		send(conn, map[string]any{
			"type":       "audio_data",
			"audio_data": base64.StdEncoding.EncodeToString(data),
			"timestamp":  time.Now().UnixMilli(),
		})
		expect(conn, *timeout)
	}

	send(conn, map[string]any{"type": "stop_recording"})
	expect(conn, *timeout)

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	log.Println("测试完成")
}

func issueToken(cfg config.AuthConfig, userID int64) (string, error) {
	if !cfg.Enabled() {
		return "", errors.New("AUTH_SIGNING_KEY 未配置，请通过 -token 指定令牌")
	}
	method := jwt.GetSigningMethod(cfg.Algorithm)
	if method == nil {
		return "", fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}
	claims := jwt.MapClaims{
		"user_id":    userID,
		"token_type": "access",
		"exp":        time.Now().Add(10 * time.Minute).Unix(),
	}
	if cfg.Issuer != "" {
		claims["iss"] = cfg.Issuer
	}
	return jwt.NewWithClaims(method, claims).SignedString([]byte(cfg.SigningKey))
}

func send(conn *websocket.Conn, msg map[string]any) {
	log.Printf("-> %s", msg["type"])
	if err := conn.WriteJSON(msg); err != nil {
		log.Fatalf("发送失败: %v", err)
	}
}

func expect(conn *websocket.Conn, timeout time.Duration) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			log.Fatalf("服务器关闭连接: code=%d reason=%q", closeErr.Code, closeErr.Text)
		}
		log.Fatalf("读取回复失败: %v", err)
	}

	var pretty map[string]any
	if err := json.Unmarshal(data, &pretty); err != nil {
		log.Printf("<- %s", strings.TrimSpace(string(data)))
		return
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	log.Printf("<- %s", out)
}
