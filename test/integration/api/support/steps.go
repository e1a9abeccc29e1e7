package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"
)

// RegisterSteps wires every step of the API suite into sc.
func (c *TestContext) RegisterSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the class labels "([^"]*)"$`, c.theClassLabels)
	sc.Step(`^a rate limit of (\d+) requests? per minute$`, c.aRateLimitOf)
	sc.Step(`^the model backend fails$`, c.theModelBackendFails)
	sc.Step(`^a segmentation server with (\d+) handles?$`, c.aSegmentationServerWithHandles)

	sc.Step(`^I GET "([^"]*)"$`, c.iGET)
	sc.Step(`^I upload a (\d+)x(\d+) PNG image to "([^"]*)"$`, c.iUploadAPNGImageTo)
	sc.Step(`^I upload invalid image data to "([^"]*)"$`, c.iUploadInvalidImageDataTo)
	sc.Step(`^I send a (\d+)x(\d+) PNG image over the WebSocket$`, c.iSendAPNGImageOverTheWebSocket)

	sc.Step(`^the response status should be (\d+)$`, c.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, c.theResponseShouldContain)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, c.theJSONFieldShouldBe)
	sc.Step(`^the JSON field "([^"]*)" should not be empty$`, c.theJSONFieldShouldNotBeEmpty)
	sc.Step(`^the WebSocket reply field "([^"]*)" should be "([^"]*)"$`, c.theWebSocketReplyFieldShouldBe)
}

func (c *TestContext) theClassLabels(csv string) error {
	c.Labels = strings.Split(csv, ",")
	return nil
}

func (c *TestContext) aRateLimitOf(n int) error {
	c.RateLimit = n
	return nil
}

func (c *TestContext) theModelBackendFails() error {
	c.Fail = true
	return nil
}

func (c *TestContext) aSegmentationServerWithHandles(n int) error {
	return c.startServer(n)
}

func (c *TestContext) iGET(path string) error {
	resp, err := http.Get(c.HTTPServer.URL + path)
	if err != nil {
		return err
	}
	return c.record(resp)
}

func (c *TestContext) upload(path string, data []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "scene.png")
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	resp, err := http.Post(c.HTTPServer.URL+path, mw.FormDataContentType(), &body)
	if err != nil {
		return err
	}
	return c.record(resp)
}

func (c *TestContext) iUploadAPNGImageTo(w, h int, path string) error {
	data, err := scenePNG(w, h)
	if err != nil {
		return err
	}
	return c.upload(path, data)
}

func (c *TestContext) iUploadInvalidImageDataTo(path string) error {
	return c.upload(path, []byte("definitely not an image"))
}

func (c *TestContext) iSendAPNGImageOverTheWebSocket(w, h int) error {
	data, err := scenePNG(w, h)
	if err != nil {
		return err
	}
	conn, err := dialWS(c.wsURL("/ws/segment"))
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return err
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	c.WSReply = nil
	return json.Unmarshal(msg, &c.WSReply)
}

func (c *TestContext) theResponseStatusShouldBe(code int) error {
	if c.LastStatus != code {
		return fmt.Errorf("status %d, want %d: %s", c.LastStatus, code, c.LastBody)
	}
	return nil
}

func (c *TestContext) theResponseShouldContain(s string) error {
	if !strings.Contains(c.LastBody, s) {
		return fmt.Errorf("response does not contain %q: %s", s, c.LastBody)
	}
	return nil
}

func fieldString(doc map[string]interface{}, path string) (string, error) {
	if doc == nil {
		return "", errors.New("no JSON document recorded")
	}
	v, err := lookup(doc, path)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

func (c *TestContext) theJSONFieldShouldBe(path, want string) error {
	got, err := fieldString(c.LastJSON, path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%s = %q, want %q", path, got, want)
	}
	return nil
}

func (c *TestContext) theJSONFieldShouldNotBeEmpty(path string) error {
	got, err := fieldString(c.LastJSON, path)
	if err != nil {
		return err
	}
	if got == "" {
		return fmt.Errorf("%s is empty", path)
	}
	return nil
}

func (c *TestContext) theWebSocketReplyFieldShouldBe(path, want string) error {
	got, err := fieldString(c.WSReply, path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("websocket %s = %q, want %q", path, got, want)
	}
	return nil
}
