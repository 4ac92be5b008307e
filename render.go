package main

import (
	"bytes"
	"html/template"
	"io"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"bizchat/conversation"
)

// turnView is one rendered history entry
type turnView struct {
	User bool
	Text string
	// HTML is set for assistant turns rendered from Markdown
	HTML template.HTML
}

type scaffoldView struct {
	MessageID   string
	UserMessage string
}

// views renders the chat page and the per-message scaffold
type views struct {
	tmpl     *template.Template
	markdown goldmark.Markdown
}

func newViews() *views {
	return &views{
		tmpl: template.Must(template.New("views").Parse(pageTemplate)),
		// the default renderer drops raw HTML from model output
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// renderMarkdown converts text to HTML; on failure the text is shown as is
func (v *views) renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := v.markdown.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String())
}

// turnViews maps the log for display. The greeting at index 0 is plain text.
func (v *views) turnViews(turns []conversation.Turn) []turnView {
	out := make([]turnView, 0, len(turns))
	for i, turn := range turns {
		tv := turnView{User: turn.Speaker == conversation.SpeakerUser, Text: turn.Text}
		if !tv.User && i > 0 {
			tv.HTML = v.renderMarkdown(turn.Text)
		}
		out = append(out, tv)
	}
	return out
}

func (v *views) page(w io.Writer, turns []conversation.Turn) error {
	return v.tmpl.ExecuteTemplate(w, "page", v.turnViews(turns))
}

func (v *views) scaffold(w io.Writer, messageID, userMessage string) error {
	return v.tmpl.ExecuteTemplate(w, "scaffold", scaffoldView{MessageID: messageID, UserMessage: userMessage})
}

const pageTemplate = `{{define "page"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Business Assistant</title>
<script src="https://unpkg.com/htmx.org@2.0.4"></script>
<script src="https://cdn.jsdelivr.net/npm/@tailwindcss/browser@4"></script>
<script type="module" src="https://cdn.jsdelivr.net/npm/zero-md@3?register"></script>
<link rel="stylesheet" href="https://cdnjs.cloudflare.com/ajax/libs/highlight.js/11.9.0/styles/atom-one-dark.min.css">
<script src="https://cdnjs.cloudflare.com/ajax/libs/highlight.js/11.9.0/highlight.min.js"></script>
<link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/katex@0.16.22/dist/katex.min.css">
<script src="https://cdn.jsdelivr.net/npm/katex@0.16.22/dist/katex.min.js"></script>
<script src="https://cdn.jsdelivr.net/npm/katex@0.16.22/dist/contrib/auto-render.min.js" onload="window.katexLoaded = true;"></script>
<style>
body { font-family: 'Inter', sans-serif; }
::-webkit-scrollbar { width: 6px; }
::-webkit-scrollbar-track { background: #2d3748; }
::-webkit-scrollbar-thumb { background: #4a5568; border-radius: 3px; }
::-webkit-scrollbar-thumb:hover { background: #718096; }
textarea { resize: none; }
.htmx-indicator { opacity: 0; transition: opacity 200ms ease-in; }
.htmx-request .htmx-indicator { opacity: 1; }
button:disabled { opacity: 0.5; cursor: not-allowed; }
.markdown-body p { margin: 0.5em 0; }
.markdown-body ul { list-style: disc; padding-left: 1.5em; }
.markdown-body ol { list-style: decimal; padding-left: 1.5em; }
.markdown-body pre { background-color: #1f2937; padding: 1em; border-radius: 6px; overflow-x: auto; }
.markdown-body code { background-color: #374151; color: #f3f4f6; padding: 0.2em 0.4em; border-radius: 3px; font-family: 'Monaco', 'Consolas', 'Courier New', monospace; }
.markdown-body pre code { background-color: transparent; padding: 0; }
.markdown-body table { border-collapse: collapse; }
.markdown-body th, .markdown-body td { border: 1px solid #4a5568; padding: 0.25em 0.5em; }
</style>
</head>
<body class="bg-gray-900 text-white font-sans antialiased">
<div id="chat-container" class="flex flex-col h-screen max-w-4xl mx-auto py-6">
<main id="chat-messages" class="flex-1 p-4 md:p-6 space-y-6 overflow-y-auto">
{{range .}}{{if .User}}{{template "user_message" .Text}}{{else}}{{template "ai_message" .}}{{end}}
{{end}}</main>
<footer id="chat-input-container" class="bg-gray-800/50 backdrop-blur-sm border-t border-gray-700 mt-6 p-4 sticky bottom-0">
<form id="chat-form" hx-post="/send_message" hx-target="#chat-messages" hx-swap="beforeend scroll:bottom" hx-indicator="#chat-input-container .htmx-indicator" class="flex items-center space-x-4">
<textarea id="message-input" name="message" rows="1" placeholder="Type your message..." required class="flex-1 bg-gray-700 text-gray-200 rounded-lg px-4 py-2 resize-none focus:outline-none focus:ring-2 focus:ring-blue-500 transition duration-200"></textarea>
<button id="submit-btn" type="submit" class="bg-blue-600 text-white rounded-full p-3 hover:bg-blue-700 focus:outline-none focus:ring-2 focus:ring-blue-500 transition duration-200 cursor-pointer">
<svg xmlns="http://www.w3.org/2000/svg" width="24" height="24" viewBox="0 0 24 24" fill="none" stroke="currentColor" stroke-width="2" stroke-linecap="round" stroke-linejoin="round"><line x1="22" y1="2" x2="11" y2="13"></line><polygon points="22 2 15 22 11 13 2 9 22 2"></polygon></svg>
</button>
<div class="htmx-indicator"><div class="w-6 h-6 border-2 border-blue-600 border-t-transparent rounded-full animate-spin"></div></div>
</form>
</footer>
</div>
<script>
function highlightCodeBlocks(container) {
  if (typeof hljs === 'undefined') return;
  const root = container.shadowRoot || container;
  root.querySelectorAll('pre code').forEach(function (block) { hljs.highlightElement(block); });
}

function renderKaTeX(container) {
  function doRender() {
    if (typeof renderMathInElement === 'undefined') return;
    try {
      renderMathInElement(container.shadowRoot || container, {
        delimiters: [
          {left: '$$', right: '$$', display: true},
          {left: '$', right: '$', display: false},
          {left: '\\(', right: '\\)', display: false},
          {left: '\\[', right: '\\]', display: true}
        ],
        throwOnError: false
      });
    } catch (e) {
      console.error('KaTeX rendering error:', e);
    }
  }
  if (window.katexLoaded || typeof renderMathInElement !== 'undefined') {
    requestAnimationFrame(function () { requestAnimationFrame(doRender); });
  } else {
    setTimeout(function () { renderKaTeX(container); }, 100);
  }
}

function releaseForm() {
  const form = document.getElementById('chat-form');
  const submitBtn = document.getElementById('submit-btn');
  form.removeAttribute('data-processing');
  submitBtn.disabled = false;
}

window.onload = function () {
  const chatMessages = document.getElementById('chat-messages');
  chatMessages.scrollTop = chatMessages.scrollHeight;
  document.querySelectorAll('.markdown-body').forEach(function (el) {
    highlightCodeBlocks(el);
    renderKaTeX(el);
  });
};

const observer = new MutationObserver(function (mutations) {
  mutations.forEach(function (mutation) {
    mutation.addedNodes.forEach(function (node) {
      if (node.nodeType !== Node.ELEMENT_NODE) return;
      const found = node.tagName === 'ZERO-MD' ? [node] : (node.querySelectorAll ? node.querySelectorAll('zero-md') : []);
      found.forEach(function (zeroMd) {
        requestAnimationFrame(function () {
          highlightCodeBlocks(zeroMd);
          renderKaTeX(zeroMd);
        });
      });
    });
  });
});
observer.observe(document.getElementById('chat-messages'), { childList: true, subtree: true });

document.addEventListener('input', function (e) {
  if (e.target.tagName === 'TEXTAREA') {
    e.target.style.height = 'auto';
    e.target.style.height = e.target.scrollHeight + 'px';
  }
});

document.addEventListener('keydown', function (e) {
  if (e.target.tagName === 'TEXTAREA' && e.key === 'Enter' && !e.shiftKey) {
    e.preventDefault();
    const form = e.target.closest('form');
    if (!form.getAttribute('data-processing')) {
      form.requestSubmit();
    }
  }
});

document.addEventListener('submit', function (e) {
  if (e.target.id !== 'chat-form') return;
  if (e.target.getAttribute('data-processing')) {
    e.preventDefault();
    return;
  }
  document.getElementById('submit-btn').disabled = true;
  e.target.setAttribute('data-processing', 'true');
});

document.addEventListener('htmx:afterRequest', function (e) {
  if (e.target.id !== 'chat-form') return;
  if (e.detail.successful) {
    const textarea = e.target.querySelector('textarea');
    textarea.value = '';
    textarea.style.height = 'auto';
  } else {
    releaseForm();
  }
});
</script>
</body>
</html>
{{end}}

{{define "user_message"}}<div class="chat-message flex items-start gap-4 justify-end">
<div class="bg-blue-600 rounded-lg p-4 max-w-lg order-1">
<p class="font-semibold text-white mb-1">You</p>
<p class="whitespace-pre-wrap">{{.}}</p>
</div>
<div class="flex-shrink-0 order-2"><img class="w-10 h-10 rounded-full" src="https://placehold.co/40x40/38BDF8/FFFFFF?text=U" alt="User Avatar"></div>
</div>{{end}}

{{define "ai_avatar"}}<div class="flex-shrink-0"><img class="w-10 h-10 rounded-full" src="https://placehold.co/40x40/7E57C2/FFFFFF?text=AI" alt="AI Avatar"></div>{{end}}

{{define "ai_message"}}<div class="chat-message flex items-start gap-4">
{{template "ai_avatar"}}
<div class="bg-gray-800 rounded-lg p-4 max-w-lg">
<p class="font-semibold text-gray-300 mb-1">AI Assistant</p>
{{if .HTML}}<div class="text-gray-300 markdown-body">{{.HTML}}</div>{{else}}<p class="text-gray-300 whitespace-pre-wrap">{{.Text}}</p>{{end}}
</div>
</div>{{end}}

{{define "scaffold"}}{{template "user_message" .UserMessage}}
<div class="chat-message flex items-start gap-4" id="container-{{.MessageID}}">
{{template "ai_avatar"}}
<div class="bg-gray-800 rounded-lg p-4 max-w-lg">
<p class="font-semibold text-gray-300 mb-1">AI Assistant</p>
<div class="flex items-center" id="typing-{{.MessageID}}">
<span class="font-semibold text-gray-300 mr-3">AI is thinking</span>
<div class="flex items-center space-x-1">
<div class="w-1.5 h-1.5 bg-blue-400 rounded-full animate-pulse"></div>
<div class="w-1.5 h-1.5 bg-blue-400 rounded-full animate-pulse" style="animation-delay: 0.2s;"></div>
<div class="w-1.5 h-1.5 bg-blue-400 rounded-full animate-pulse" style="animation-delay: 0.4s;"></div>
</div>
</div>
<div class="text-gray-300" style="display: none;" id="content-{{.MessageID}}">
<zero-md id="{{.MessageID}}"><template data-append><style>
.markdown-body { background-color: unset !important; color: unset !important; }
.markdown-body pre { background-color: #1f2937 !important; padding: 1em !important; border-radius: 6px !important; overflow-x: auto !important; }
.markdown-body code { background-color: #374151 !important; color: #f3f4f6 !important; padding: 0.2em 0.4em !important; border-radius: 3px !important; }
.markdown-body pre code { background-color: transparent !important; padding: 0 !important; }
.markdown-body .katex, .markdown-body .katex .base { color: #f3f4f6 !important; }
</style></template><script type="text/markdown"></script></zero-md>
</div>
</div>
</div>
<script>
(function () {
  const messageId = {{.MessageID}};
  const userMessage = {{.UserMessage}};
  const source = new EventSource('/stream-response?message_id=' + encodeURIComponent(messageId) + '&user_message=' + encodeURIComponent(userMessage));
  let fullContent = '';

  function setMarkdown(text) {
    const zeroMd = document.getElementById(messageId);
    if (!zeroMd) return null;
    const script = zeroMd.querySelector('script[type="text/markdown"]');
    if (script) script.textContent = text;
    return zeroMd;
  }

  source.onmessage = function (event) {
    if (event.data === '[DONE]') {
      source.close();
      releaseForm();
      return;
    }
    let data;
    try {
      data = JSON.parse(event.data);
    } catch (e) {
      console.error('Error parsing SSE data:', e, event.data);
      return;
    }
    if (data.type === 'start') {
      const typing = document.getElementById('typing-' + messageId);
      const content = document.getElementById('content-' + messageId);
      if (typing) typing.style.display = 'none';
      if (content) content.style.display = 'block';
    } else if (data.type === 'chunk') {
      fullContent += data.content;
      setMarkdown(fullContent);
    } else if (data.type === 'complete') {
      const zeroMd = setMarkdown(data.content);
      if (zeroMd) {
        requestAnimationFrame(function () {
          highlightCodeBlocks(zeroMd);
          renderKaTeX(zeroMd);
        });
      }
    } else if (data.type === 'error') {
      console.error('Streaming error:', data.content);
      const content = document.getElementById('content-' + messageId);
      if (content) {
        const box = document.createElement('div');
        box.className = 'text-red-500 p-4 bg-red-50 rounded border-l-4 border-red-400';
        box.textContent = data.content;
        content.replaceChildren(box);
      }
    }
  };

  source.onerror = function (error) {
    console.error('EventSource failed:', error);
    source.close();
    releaseForm();
  };
})();
</script>{{end}}
`
