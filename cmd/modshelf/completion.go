package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
)

func handleCompletion(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("completion", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("usage: modshelf completion [bash|zsh|fish]")
	}
	switch shell := fs.Arg(0); shell {
	case "bash":
		fmt.Fprint(stdout, bashCompletion)
	case "zsh":
		fmt.Fprint(stdout, zshCompletion)
	case "fish":
		fmt.Fprint(stdout, fishCompletion)
	default:
		return fmt.Errorf("unknown shell: %s", shell)
	}
	return nil
}

const bashCompletion = `# bash completion for modshelf
_modshelf_completions()
{
    local cur prev words cword
    _init_completion || return
    local cmds="config scan models gallery analyze browse save-image cache stats settings db doctor tui completion version help"
    if [[ ${cword} -eq 1 ]]; then
        COMPREPLY=( $(compgen -W "${cmds}" -- "$cur") )
        return
    fi
    case ${words[1]} in
        config)
            COMPREPLY=( $(compgen -W "validate print init --config --log-level --json --strict --out --data-root --models-dir --force" -- "$cur") ) ;;
        scan)
            COMPREPLY=( $(compgen -W "--config --log-level --json --type --force --rehash --enrich --covers --quiet" -- "$cur") ) ;;
        models)
            COMPREPLY=( $(compgen -W "--config --log-level --json --query --type --lang" -- "$cur") ) ;;
        gallery)
            COMPREPLY=( $(compgen -W "--config --log-level --json --model --hash --width --filter --limit" -- "$cur") ) ;;
        analyze)
            COMPREPLY=( $(compgen -W "--config --log-level --json --model --hash --limit --sort --nsfw --filter --top --refresh" -- "$cur") ) ;;
        browse)
            COMPREPLY=( $(compgen -W "--config --log-level --json --query --type --base-model --sort --period --limit --cursor" -- "$cur") ) ;;
        save-image)
            COMPREPLY=( $(compgen -W "--config --log-level --json --version-id" -- "$cur") ) ;;
        cache)
            COMPREPLY=( $(compgen -W "clear analysis api_responses triggers probe all --config --log-level" -- "$cur") ) ;;
        stats)
            COMPREPLY=( $(compgen -W "--config --log-level --json" -- "$cur") ) ;;
        settings)
            COMPREPLY=( $(compgen -W "get set network com work --config --log-level --json" -- "$cur") ) ;;
        db)
            COMPREPLY=( $(compgen -W "check repair vacuum backup --config --log-level --json" -- "$cur") ) ;;
        doctor)
            COMPREPLY=( $(compgen -W "--config --verbose --offline" -- "$cur") ) ;;
        tui)
            COMPREPLY=( $(compgen -W "--config --log-level" -- "$cur") ) ;;
        completion)
            COMPREPLY=( $(compgen -W "bash zsh fish" -- "$cur") ) ;;
        *) ;;
    esac
}
complete -F _modshelf_completions modshelf
`

const zshCompletion = `#compdef modshelf
# zsh completion for modshelf (basic)
_modshelf() {
  local -a cmds
  cmds=(config scan models gallery analyze browse save-image cache stats settings db doctor tui completion version help)
  if (( CURRENT == 2 )); then
    _describe 'command' cmds
    return
  fi
  case $words[2] in
    config)
      _arguments '*:options:(validate print init --config --log-level --json --strict --out --data-root --models-dir --force)'
      ;;
    scan)
      _arguments '*:options:(--config --log-level --json --type --force --rehash --enrich --covers --quiet)'
      ;;
    models)
      _arguments '*:options:(--config --log-level --json --query --type --lang)'
      ;;
    gallery)
      _arguments '*:options:(--config --log-level --json --model --hash --width --filter --limit)'
      ;;
    analyze)
      _arguments '*:options:(--config --log-level --json --model --hash --limit --sort --nsfw --filter --top --refresh)'
      ;;
    browse)
      _arguments '*:options:(--config --log-level --json --query --type --base-model --sort --period --limit --cursor)'
      ;;
    save-image)
      _arguments '*:options:(--config --log-level --json --version-id)'
      ;;
    cache)
      _arguments '*:options:(clear analysis api_responses triggers probe all --config --log-level)'
      ;;
    stats)
      _arguments '*:options:(--config --log-level --json)'
      ;;
    settings)
      _arguments '*:options:(get set network com work --config --log-level --json)'
      ;;
    db)
      _arguments '*:options:(check repair vacuum backup --config --log-level --json)'
      ;;
    doctor)
      _arguments '*:options:(--config --verbose --offline)'
      ;;
    tui)
      _arguments '*:options:(--config --log-level)'
      ;;
    completion)
      _arguments '*:options:(bash zsh fish)'
      ;;
  esac
}
compdef _modshelf modshelf
`

const fishCompletion = `# fish completion for modshelf
complete -c modshelf -f -n "__fish_use_subcommand" -a "config" -d "validate, print or create config"
complete -c modshelf -f -n "__fish_use_subcommand" -a "scan" -d "hash and enrich local models"
complete -c modshelf -f -n "__fish_use_subcommand" -a "models" -d "print the local catalog"
complete -c modshelf -f -n "__fish_use_subcommand" -a "gallery" -d "lay out a model's community images"
complete -c modshelf -f -n "__fish_use_subcommand" -a "analyze" -d "summarise a model's recipes"
complete -c modshelf -f -n "__fish_use_subcommand" -a "browse" -d "search Civitai models"
complete -c modshelf -f -n "__fish_use_subcommand" -a "save-image" -d "download a gallery image"
complete -c modshelf -f -n "__fish_use_subcommand" -a "cache" -d "clear caches"
complete -c modshelf -f -n "__fish_use_subcommand" -a "stats" -d "catalog statistics"
complete -c modshelf -f -n "__fish_use_subcommand" -a "settings" -d "persisted settings"
complete -c modshelf -f -n "__fish_use_subcommand" -a "db" -d "database maintenance"
complete -c modshelf -f -n "__fish_use_subcommand" -a "doctor" -d "diagnose problems"
complete -c modshelf -f -n "__fish_use_subcommand" -a "tui" -d "interactive UI"
complete -c modshelf -f -n "__fish_use_subcommand" -a "version" -d "print version"
complete -c modshelf -f -n "__fish_use_subcommand" -a "completion" -d "shell completions"

# Common flags
for cmd in config scan models gallery analyze browse save-image cache stats settings db tui
  complete -c modshelf -n "__fish_seen_subcommand_from $cmd" -l config -d "Path to config"
  complete -c modshelf -n "__fish_seen_subcommand_from $cmd" -l log-level -d "Log level"
  complete -c modshelf -n "__fish_seen_subcommand_from $cmd" -l json -d "JSON output"
end
complete -c modshelf -n "__fish_seen_subcommand_from config" -a "validate print init"
complete -c modshelf -n "__fish_seen_subcommand_from config" -l strict -d "Check directories and token"
complete -c modshelf -n "__fish_seen_subcommand_from scan" -l type -d "Category to scan"
complete -c modshelf -n "__fish_seen_subcommand_from scan" -l force -d "Hash unchanged files too"
complete -c modshelf -n "__fish_seen_subcommand_from scan" -l rehash -d "Forget stored mtimes"
complete -c modshelf -n "__fish_seen_subcommand_from scan" -l enrich -d "Look hashes up on Civitai"
complete -c modshelf -n "__fish_seen_subcommand_from scan" -l covers -d "Download missing covers"
complete -c modshelf -n "__fish_seen_subcommand_from models" -l query -d "Filter text"
complete -c modshelf -n "__fish_seen_subcommand_from models" -l type -d "Category"
complete -c modshelf -n "__fish_seen_subcommand_from gallery" -l model -d "Local model file" -r
complete -c modshelf -n "__fish_seen_subcommand_from gallery" -l hash -d "Model SHA256"
complete -c modshelf -n "__fish_seen_subcommand_from gallery" -l width -d "Container width in pixels"
complete -c modshelf -n "__fish_seen_subcommand_from gallery" -l filter -d "all|image|video"
complete -c modshelf -n "__fish_seen_subcommand_from analyze" -l model -d "Local model file" -r
complete -c modshelf -n "__fish_seen_subcommand_from analyze" -l hash -d "Model SHA256"
complete -c modshelf -n "__fish_seen_subcommand_from analyze" -l top -d "Entries per section"
complete -c modshelf -n "__fish_seen_subcommand_from analyze" -l refresh -d "Ignore the cached analysis"
complete -c modshelf -n "__fish_seen_subcommand_from browse" -l query -d "Search text"
complete -c modshelf -n "__fish_seen_subcommand_from browse" -l type -d "Civitai model type"
complete -c modshelf -n "__fish_seen_subcommand_from browse" -l base-model -d "Base model"
complete -c modshelf -n "__fish_seen_subcommand_from browse" -l cursor -d "Next page cursor"
complete -c modshelf -n "__fish_seen_subcommand_from save-image" -l version-id -d "Model version id"
complete -c modshelf -n "__fish_seen_subcommand_from cache" -a "clear analysis api_responses triggers probe all"
complete -c modshelf -n "__fish_seen_subcommand_from settings" -a "get set network com work"
complete -c modshelf -n "__fish_seen_subcommand_from db" -a "check repair vacuum backup"
complete -c modshelf -n "__fish_seen_subcommand_from doctor" -l verbose -d "Timings and descriptions"
complete -c modshelf -n "__fish_seen_subcommand_from doctor" -l offline -d "Skip the Civitai check"
`
